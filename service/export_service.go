package service

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const exportImageDir = "result_imgs"

// ExportedRelation 是导出清单 manifest.csv 中的一行。
type ExportedRelation struct {
	Name   string `csv:"name"`
	Kind   string `csv:"kind"`
	Rows   int    `csv:"rows"`
	File   string `csv:"file"`
	Images int    `csv:"images"`
}

// ExportReport 描述一次导出的产物。
type ExportReport struct {
	// Path 是导出目录，打包时是 zip 文件路径。
	Path      string
	Relations []ExportedRelation
	Images    int
}

// ExportService 把数据库中所有表和视图导出为 CSV，结果表中的图片另存为 PNG 文件。
type ExportService struct {
	db      *dao.Database
	workers int

	// OnRelation 在每个表或视图导出完成后调用，可以为 nil。
	OnRelation func(name string)
}

func NewExportService(database *dao.Database, workers int) *ExportService {
	if workers <= 0 {
		workers = 1
	}
	return &ExportService{db: database, workers: workers}
}

// Export 导出到 outDir/<数据库名>/。archive 为 true 时打包为 outDir/pyerm_export_<uuid>.zip 并删除导出目录。
func (s *ExportService) Export(ctx context.Context, outDir string, archive bool) (*ExportReport, error) {
	logger := serviceLogger().With("service", "ExportService", "method", "Export")
	dbName := strings.TrimSuffix(filepath.Base(s.db.Path), filepath.Ext(s.db.Path))
	base := filepath.Join(outDir, dbName)
	if err := os.MkdirAll(filepath.Join(base, exportImageDir), 0o755); err != nil {
		return nil, fmt.Errorf("create export directory failed: %w", err)
	}
	logger.Info("export begin", "db", s.db.Path, "out", base)

	report := &ExportReport{Path: base}
	relations := make([]struct{ name, kind string }, 0, s.db.TableCount())
	for _, name := range s.db.TableNames() {
		relations = append(relations, struct{ name, kind string }{name, "table"})
	}
	for _, name := range s.db.ViewNames() {
		relations = append(relations, struct{ name, kind string }{name, "view"})
	}

	for _, r := range relations {
		exported, err := s.exportRelation(ctx, base, r.name, r.kind)
		if err != nil {
			logger.Error("export relation failed", "relation", r.name, "error", err)
			return nil, err
		}
		report.Relations = append(report.Relations, *exported)
		report.Images += exported.Images
		if s.OnRelation != nil {
			s.OnRelation(r.name)
		}
	}

	manifest, err := os.Create(filepath.Join(base, "manifest.csv"))
	if err != nil {
		return nil, fmt.Errorf("create manifest failed: %w", err)
	}
	if err := gocsv.MarshalFile(&report.Relations, manifest); err != nil {
		_ = manifest.Close()
		return nil, fmt.Errorf("write manifest failed: %w", err)
	}
	if err := manifest.Close(); err != nil {
		return nil, err
	}

	if archive {
		zipPath := filepath.Join(outDir, fmt.Sprintf("pyerm_export_%s.zip", uuid.NewString()))
		if err := zipDir(base, zipPath); err != nil {
			return nil, err
		}
		if err := os.RemoveAll(base); err != nil {
			return nil, fmt.Errorf("remove export directory failed: %w", err)
		}
		report.Path = zipPath
	}
	logger.Info("export success", "path", report.Path, "relations", len(report.Relations), "images", report.Images)
	return report, nil
}

type imageJob struct {
	row, col int
	data     []byte
	path     string
}

func (s *ExportService) exportRelation(ctx context.Context, base, name, kind string) (*ExportedRelation, error) {
	relation, err := s.db.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	rs, err := relation.Select(ctx, entity.SelectQuery{})
	if err != nil {
		return nil, err
	}
	exported := &ExportedRelation{Name: name, Kind: kind, Rows: rs.Len(), File: name + ".csv"}

	cells := make([][]string, rs.Len())
	for i, row := range rs.Rows {
		cells[i] = make([]string, len(row))
		for j, v := range row {
			cells[i][j] = cellString(v)
		}
	}

	var jobs []imageJob
	if strings.HasPrefix(name, "result_") {
		jobs = collectImageJobs(rs, filepath.Join(base, exportImageDir))
	}
	if err := s.writeImages(ctx, jobs); err != nil {
		return nil, err
	}
	for _, job := range jobs {
		rel, _ := filepath.Rel(base, job.path)
		cells[job.row][job.col] = rel
	}
	exported.Images = len(jobs)

	f, err := os.Create(filepath.Join(base, exported.File))
	if err != nil {
		return nil, fmt.Errorf("create %s failed: %w", exported.File, err)
	}
	defer f.Close()
	w := gocsv.DefaultCSVWriter(f)
	if err := w.Write(rs.Columns); err != nil {
		return nil, err
	}
	for _, row := range cells {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write %s failed: %w", exported.File, err)
	}
	return exported, nil
}

func collectImageJobs(rs *entity.ResultSet, dir string) []imageJob {
	idCol := rs.ColumnIndex("experiment_id")
	var jobs []imageJob
	for col, name := range rs.Columns {
		if !entity.IsImageColumn(name) || strings.HasSuffix(name, "_name") {
			continue
		}
		for row := range rs.Rows {
			data, ok := rs.Rows[row][col].([]byte)
			if !ok || len(data) == 0 {
				continue
			}
			id := any(row)
			if idCol >= 0 {
				id = rs.Rows[row][idCol]
			}
			jobs = append(jobs, imageJob{
				row:  row,
				col:  col,
				data: data,
				path: filepath.Join(dir, fmt.Sprintf("ID%v_%s.png", id, name)),
			})
		}
	}
	return jobs
}

// writeImages 并行把图片重新编码为 PNG 写盘；无法解码的数据按原样写出。
func (s *ExportService) writeImages(ctx context.Context, jobs []imageJob) error {
	if len(jobs) == 0 {
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	var mu sync.Mutex
	written := 0
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data := job.data
			if img, _, err := image.Decode(bytes.NewReader(job.data)); err == nil {
				var buf bytes.Buffer
				if err := png.Encode(&buf, img); err != nil {
					return fmt.Errorf("encode %s failed: %w", job.path, err)
				}
				data = buf.Bytes()
			}
			if err := os.WriteFile(job.path, data, 0o644); err != nil {
				return fmt.Errorf("write %s failed: %w", job.path, err)
			}
			mu.Lock()
			written++
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	serviceLogger().With("service", "ExportService", "method", "writeImages").
		Debug("images written", "written", written, "total", len(jobs))
	return err
}

func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return fmt.Sprintf("<blob %d bytes>", len(val))
	case time.Time:
		return val.Format(entity.TimeLayout)
	default:
		return fmt.Sprint(val)
	}
}

func zipDir(dir, zipPath string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create %s failed: %w", zipPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		_ = zw.Close()
		return fmt.Errorf("zip %s failed: %w", dir, err)
	}
	return zw.Close()
}
