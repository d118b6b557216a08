package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat 导出格式
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

// exportLimit 单次导出的最大条数
const exportLimit = 200

// ExportResult 导出结果
type ExportResult struct {
	Data        []byte `json:"data,omitempty"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	TotalCount  int    `json:"totalCount"`
}

// Exporter 活动日志导出器，复用查询服务的过滤条件。
type Exporter struct {
	query *QueryService
}

// NewExporter 创建导出器。
func NewExporter(query *QueryService) *Exporter {
	return &Exporter{query: query}
}

// Export 按过滤条件导出活动日志。
func (e *Exporter) Export(ctx context.Context, f Filter, format ExportFormat) (*ExportResult, error) {
	page, err := e.query.ActivityLogs(ctx, f, 1, exportLimit)
	if err != nil {
		return nil, fmt.Errorf("导出查询失败: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	switch format {
	case FormatCSV:
		return e.exportCSV(page, timestamp)
	default:
		return e.exportJSON(page, timestamp)
	}
}

func (e *Exporter) exportCSV(page *Page, timestamp string) (*ExportResult, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"ID", "用户ID", "操作", "实体", "实体ID", "详情", "来源IP", "创建时间"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}

	for _, row := range page.Items {
		record := []string{
			row.ID,
			row.UserID,
			row.Action,
			row.Entity,
			row.EntityID,
			string(row.Details),
			row.IPAddress,
			row.CreatedAt.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}

	return &ExportResult{
		Data:        buf.Bytes(),
		Filename:    fmt.Sprintf("activity_logs_%s.csv", timestamp),
		ContentType: "text/csv; charset=utf-8",
		TotalCount:  len(page.Items),
	}, nil
}

func (e *Exporter) exportJSON(page *Page, timestamp string) (*ExportResult, error) {
	result := struct {
		ExportedAt string      `json:"exportedAt"`
		TotalCount int         `json:"totalCount"`
		Logs       interface{} `json:"logs"`
	}{
		ExportedAt: time.Now().Format(time.RFC3339),
		TotalCount: len(page.Items),
		Logs:       page.Items,
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		Data:        data,
		Filename:    fmt.Sprintf("activity_logs_%s.json", timestamp),
		ContentType: "application/json; charset=utf-8",
		TotalCount:  len(page.Items),
	}, nil
}
