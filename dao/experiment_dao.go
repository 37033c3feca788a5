package dao

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/looplab/fsm"
	"gorm.io/gorm"
)

// ExperimentTableName 是实验台账表名。
const ExperimentTableName = "experiment_list"

const (
	ledgerEventFinish = "finish"
	ledgerEventFail   = "fail"
)

// experimentSchema 是台账表的固定结构；total_time_cost 是由 end_time - start_time 计算的虚拟列。
var experimentSchema = entity.Schema{
	{Name: "id", Definition: "INTEGER PRIMARY KEY AUTOINCREMENT"},
	{Name: "remark", Definition: "TEXT DEFAULT NULL UNIQUE"},
	{Name: "description", Definition: "TEXT DEFAULT NULL"},
	{Name: "method", Definition: "TEXT NOT NULL"},
	{Name: "method_id", Definition: "INTEGER NOT NULL"},
	{Name: "data", Definition: "TEXT NOT NULL"},
	{Name: "data_id", Definition: "INTEGER NOT NULL"},
	{Name: "task", Definition: "TEXT NOT NULL"},
	{Name: "tags", Definition: "TEXT DEFAULT NULL"},
	{Name: "experimenters", Definition: "TEXT DEFAULT NULL"},
	{Name: "start_time", Definition: "DATETIME"},
	{Name: "end_time", Definition: "DATETIME DEFAULT NULL"},
	{Name: "useful_time_cost", Definition: "REAL DEFAULT NULL"},
	{Name: "total_time_cost", Definition: "REAL AS (strftime('%s', end_time) - strftime('%s', start_time)) VIRTUAL"},
	{Name: "status", Definition: "TEXT CHECK(status IN ('running', 'finished', 'failed'))"},
	{Name: "failed_reason", Definition: "TEXT DEFAULT NULL"},
}

// newLedgerFSM 描述台账状态机：running -> finished | failed，终态不可再迁移。
func newLedgerFSM(current string) *fsm.FSM {
	return fsm.NewFSM(
		current,
		fsm.Events{
			{Name: ledgerEventFinish, Src: []string{entity.StatusRunning}, Dst: entity.StatusFinished},
			{Name: ledgerEventFail, Src: []string{entity.StatusRunning}, Dst: entity.StatusFailed},
		},
		fsm.Callbacks{},
	)
}

type ExperimentDAO struct {
	table *Table
}

// NewExperimentDAO 打开（必要时创建）实验台账表。
func NewExperimentDAO(ctx context.Context, database *Database) (*ExperimentDAO, error) {
	table, err := OpenTable(ctx, database, ExperimentTableName, experimentSchema)
	if err != nil {
		return nil, err
	}
	return &ExperimentDAO{table: table}, nil
}

func (d *ExperimentDAO) Table() *Table {
	return d.table
}

// Start 写入一条 running 状态的实验记录并返回其 id。
func (d *ExperimentDAO) Start(ctx context.Context, p entity.StartParams) (int64, error) {
	logger := daoLogger().With("dao", "ExperimentDAO", "method", "Start")
	start := time.Now()
	if p.StartTime != nil {
		start = *p.StartTime
	}

	values := entity.Params{
		{Key: "description", Value: nullableText(p.Description)},
		{Key: "method", Value: text(p.Method)},
		{Key: "method_id", Value: integer(p.MethodID)},
		{Key: "data", Value: text(p.Data)},
		{Key: "data_id", Value: integer(p.DataID)},
		{Key: "task", Value: text(p.Task)},
		{Key: "tags", Value: nullableText(p.Tags)},
		{Key: "experimenters", Value: nullableText(p.Experimenters)},
		{Key: "start_time", Value: text(start.Format(entity.TimeLayout))},
		{Key: "status", Value: text(entity.StatusRunning)},
	}
	id, err := d.table.Insert(ctx, values)
	if err != nil {
		logger.Error("start experiment failed", "task", p.Task, "method", p.Method, "data", p.Data, "error", err)
		return 0, fmt.Errorf("start experiment failed: %w", err)
	}
	logger.Info("experiment started", "id", id, "task", p.Task, "method", p.Method, "method_id", p.MethodID,
		"data", p.Data, "data_id", p.DataID)
	return id, nil
}

// Finish 把实验标记为 finished。
func (d *ExperimentDAO) Finish(ctx context.Context, id int64, endTime *time.Time, usefulTimeCost *float64) error {
	useful := entity.Value{Type: entity.ColumnTypeReal}
	if usefulTimeCost != nil {
		useful.Raw = *usefulTimeCost
	}
	values := entity.Params{
		{Key: "end_time", Value: text(timeOrNow(endTime).Format(entity.TimeLayout))},
		{Key: "useful_time_cost", Value: useful},
		{Key: "status", Value: text(entity.StatusFinished)},
	}
	return d.transition(ctx, id, ledgerEventFinish, values)
}

// Fail 把实验标记为 failed。reason 为空时记录当前调用栈。
func (d *ExperimentDAO) Fail(ctx context.Context, id int64, reason string, endTime *time.Time) error {
	if reason == "" {
		reason = string(debug.Stack())
	}
	values := entity.Params{
		{Key: "end_time", Value: text(timeOrNow(endTime).Format(entity.TimeLayout))},
		{Key: "status", Value: text(entity.StatusFailed)},
		{Key: "failed_reason", Value: text(reason)},
	}
	return d.transition(ctx, id, ledgerEventFail, values)
}

func (d *ExperimentDAO) transition(ctx context.Context, id int64, event string, values entity.Params) error {
	logger := daoLogger().With("dao", "ExperimentDAO", "method", "transition", "event", event)
	if id <= 0 {
		return ErrInvalidID
	}

	exp, err := d.FindByID(ctx, id)
	if err != nil {
		logger.Warn("transition failed: load experiment", "id", id, "error", err)
		return err
	}
	machine := newLedgerFSM(exp.Status)
	if err := machine.Event(ctx, event); err != nil {
		logger.Warn("transition rejected", "id", id, "status", exp.Status, "error", err)
		return fmt.Errorf("%w: %s -> %s: %v", ErrInvalidTransition, exp.Status, event, err)
	}

	// 条件中再次限定 running，保证终态不会被覆盖
	where := entity.RawPredicate(fmt.Sprintf("id = %d AND status = '%s'", id, entity.StatusRunning))
	affected, err := d.table.Update(ctx, where, values)
	if err != nil {
		logger.Error("transition failed: update", "id", id, "error", err)
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: experiment %d is no longer running", ErrInvalidTransition, id)
	}
	logger.Info("experiment status changed", "id", id, "status", machine.Current())
	return nil
}

// FindByID 根据主键查询单条实验记录。
func (d *ExperimentDAO) FindByID(ctx context.Context, id int64) (*entity.Experiment, error) {
	if id <= 0 {
		return nil, ErrInvalidID
	}
	dbConn, err := withContext(d.table.db.DB, ctx)
	if err != nil {
		return nil, fmt.Errorf("find experiment by id failed: %w", err)
	}

	var exp entity.Experiment
	if err := dbConn.Table(ExperimentTableName).Where("id = ?", id).Take(&exp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("experiment %d: %w", id, gorm.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("find experiment by id failed: %w", err)
	}
	return &exp, nil
}

// FindByRemark 根据别名查询单条实验记录。
func (d *ExperimentDAO) FindByRemark(ctx context.Context, remark string) (*entity.Experiment, error) {
	remark = strings.TrimSpace(remark)
	if remark == "" {
		return nil, ErrInvalidName
	}
	dbConn, err := withContext(d.table.db.DB, ctx)
	if err != nil {
		return nil, fmt.Errorf("find experiment by remark failed: %w", err)
	}

	var exp entity.Experiment
	if err := dbConn.Table(ExperimentTableName).Where("remark = ?", remark).Take(&exp).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("experiment %q: %w", remark, gorm.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("find experiment by remark failed: %w", err)
	}
	return &exp, nil
}

// FindAll 按原生条件查询实验记录，other 例如 "ORDER BY id DESC LIMIT 10"。
func (d *ExperimentDAO) FindAll(ctx context.Context, where entity.RawPredicate, other entity.RawClause) ([]entity.Experiment, error) {
	dbConn, err := withContext(d.table.db.DB, ctx)
	if err != nil {
		return nil, fmt.Errorf("find experiments failed: %w", err)
	}
	stmt := "SELECT * FROM " + quote(ExperimentTableName)
	if where != "" {
		stmt += " WHERE " + string(where)
	}
	if other != "" {
		stmt += " " + string(other)
	}

	var exps []entity.Experiment
	if err := dbConn.Raw(stmt).Scan(&exps).Error; err != nil {
		return nil, fmt.Errorf("find experiments failed: %w", err)
	}
	return exps, nil
}

// SetRemark 设置实验的别名，别名冲突返回 ErrDuplicateRemark。
func (d *ExperimentDAO) SetRemark(ctx context.Context, id int64, remark string) error {
	return setRemark(ctx, d.table, "id", id, remark)
}

// DeleteByID 删除一条实验记录。
func (d *ExperimentDAO) DeleteByID(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidID
	}
	affected, err := d.table.Delete(ctx, entity.RawPredicate(fmt.Sprintf("id = %d", id)))
	if err != nil {
		return err
	}
	if affected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func setRemark(ctx context.Context, table *Table, idColumn string, id int64, remark string) error {
	logger := daoLogger().With("dao", table.Name(), "method", "SetRemark")
	if id <= 0 {
		return ErrInvalidID
	}
	value := nullableText(remark)
	affected, err := table.Update(ctx, entity.RawPredicate(fmt.Sprintf("%s = %d", quote(idColumn), id)),
		entity.Params{{Key: "remark", Value: value}})
	if err != nil {
		logger.Warn("set remark failed", "id", id, "remark", remark, "error", err)
		return err
	}
	if affected == 0 {
		return gorm.ErrRecordNotFound
	}
	logger.Info("remark updated", "id", id, "remark", remark)
	return nil
}

func timeOrNow(t *time.Time) time.Time {
	if t == nil {
		return time.Now()
	}
	return *t
}

func text(s string) entity.Value {
	return entity.Value{Type: entity.ColumnTypeText, Raw: s}
}

func nullableText(s string) entity.Value {
	if s == "" {
		return entity.Value{Type: entity.ColumnTypeText}
	}
	return text(s)
}

func integer(i int64) entity.Value {
	return entity.Value{Type: entity.ColumnTypeInteger, Raw: i}
}
