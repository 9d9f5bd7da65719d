package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"control-despacho/backend/internal/repository"
)

// ── 导出模块业务错误 ──

var (
	ErrExportGenerateFail = errors.New("No se pudo generar el archivo Excel")
)

// ExportService 导出业务接口
//
// 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response。
// 时间列按业务时区显示。
type ExportService interface {
	// ExportArchived 导出归档作业为 Excel
	ExportArchived(ctx context.Context) (*bytes.Buffer, string, error)
}

type exportService struct {
	repo   *repository.Repository
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger
}

// NewExportService 创建 ExportService 实例
func NewExportService(repo *repository.Repository, loc *time.Location, logger *zap.Logger) ExportService {
	if loc == nil {
		loc = time.UTC
	}
	return &exportService{repo: repo, loc: loc, now: time.Now, logger: logger}
}

var exportHeaders = []string{
	"Registro", "Punto de despacho", "Placa", "Estado",
	"Fecha registro", "Fecha aceptación", "Fecha en proceso", "Fecha completado",
	"Operador", "Supervisor", "Enlonador",
}

// ═══════════════════════════════════════════════════════════
// ExportArchived 导出归档作业为 Excel
// ═══════════════════════════════════════════════════════════
//
// 输出格式：单个 Sheet "Despachos"，第 1 行为表头，按 fecha_registro 倒序。
// 返回值：buf（Excel 内容）, filename（建议文件名）, error

func (s *exportService) ExportArchived(ctx context.Context) (*bytes.Buffer, string, error) {
	list, err := s.repo.Archive.List(ctx)
	if err != nil {
		s.logger.Error("查询归档作业失败", zap.Error(err))
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Despachos"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	// 设置列宽
	f.SetColWidth(sheetName, "A", "A", 10)
	f.SetColWidth(sheetName, "B", "B", 20)
	f.SetColWidth(sheetName, "C", "D", 14)
	f.SetColWidth(sheetName, "E", "H", 20)
	f.SetColWidth(sheetName, "I", "K", 26)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	// 表头
	for i, h := range exportHeaders {
		f.SetCellValue(sheetName, cell(colName(i), 1), h)
	}
	f.SetCellStyle(sheetName, "A1", cell(colName(len(exportHeaders)-1), 1), headerStyle)
	f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	// 数据行
	for i := range list {
		a := &list[i]
		row := i + 2
		values := []interface{}{
			a.RegisterID,
			a.DispatchPoint,
			a.TruckPlate,
			string(a.Status),
			s.formatTime(&a.RegisteredAt),
			s.formatTime(a.AcceptedAt),
			s.formatTime(a.StartedAt),
			s.formatTime(a.CompletedAt),
			fullName(a.Operator),
			fullName(a.Supervisor),
			fullName(a.Loader),
		}
		for col, v := range values {
			f.SetCellValue(sheetName, cell(colName(col), row), v)
		}
	}

	// 写入 buffer
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("despachos_%s.xlsx", s.now().In(s.loc).Format("20060102"))
	return buf, filename, nil
}

// ── 辅助函数 ──

func (s *exportService) formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.In(s.loc).Format("2006-01-02 15:04")
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
