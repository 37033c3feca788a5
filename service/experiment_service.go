package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mr-SGXXX/pyerm/config"
	"github.com/Mr-SGXXX/pyerm/dao"
	"github.com/Mr-SGXXX/pyerm/entity"

	"github.com/looplab/fsm"
	"github.com/samber/lo"
)

// 会话生命周期状态
const (
	SessionUninitialized = "uninitialized"
	SessionReady         = "ready"
	SessionStarted       = "started"
	SessionClosed        = "closed"
)

const (
	sessionEventPrepare = "prepare"
	sessionEventStart   = "start"
	sessionEventClose   = "close"
)

// StartOptions 是开启一次实验时的可选信息。
type StartOptions struct {
	Description   string
	StartTime     *time.Time
	Tags          []string
	Experimenters []string
}

// Experiment 是实验脚本驱动的会话对象：
// TaskInit/DataInit/MethodInit（任意顺序，可重复调用） -> ExperimentStart -> DetailUpdate* -> ExperimentOver 或 ExperimentFailed。
// 同一个会话可以连续开启多次实验，但同一时刻只有一个实验处于运行中。
type Experiment struct {
	db          *dao.Database
	experiments *dao.ExperimentDAO
	imageSlots  int

	lifecycle *fsm.FSM

	task     string
	taskSet  bool
	data     string
	dataID   int64
	dataSet  bool
	method   string
	methodID int64
	methodOK bool

	dataDAO   *dao.ParamDAO
	methodDAO *dao.ParamDAO
	resultDAO *dao.ResultDAO
	detailDAO *dao.DetailDAO

	id       int64
	runTimes int
}

// OpenExperiment 打开 path 指向的数据库并创建会话，path 为空时使用配置中的默认路径。
func OpenExperiment(ctx context.Context, path string) (*Experiment, error) {
	cfg := config.Current()
	if strings.TrimSpace(path) == "" {
		path = cfg.DB.Path
	}
	database, err := dao.OpenDatabase(ctx, path)
	if err != nil {
		return nil, err
	}
	exp, err := NewExperiment(ctx, database, cfg.Result.DefaultImageSlots)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	return exp, nil
}

// NewExperiment 在已打开的数据库上创建会话，并确保实验台账表存在。
func NewExperiment(ctx context.Context, database *dao.Database, defaultImageSlots int) (*Experiment, error) {
	experiments, err := dao.NewExperimentDAO(ctx, database)
	if err != nil {
		return nil, err
	}
	return &Experiment{
		db:          database,
		experiments: experiments,
		imageSlots:  defaultImageSlots,
		lifecycle:   newSessionFSM(),
	}, nil
}

func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		SessionUninitialized,
		fsm.Events{
			{Name: sessionEventPrepare, Src: []string{SessionUninitialized, SessionClosed}, Dst: SessionReady},
			{Name: sessionEventStart, Src: []string{SessionReady, SessionClosed}, Dst: SessionStarted},
			{Name: sessionEventClose, Src: []string{SessionStarted}, Dst: SessionClosed},
		},
		fsm.Callbacks{},
	)
}

func (e *Experiment) Database() *dao.Database {
	return e.db
}

// State 返回会话当前状态。
func (e *Experiment) State() string {
	return e.lifecycle.Current()
}

// ID 返回当前运行中的实验 id，没有运行中的实验时返回 0。
func (e *Experiment) ID() int64 {
	return e.id
}

// RunTimes 返回本会话已经开启的实验次数。
func (e *Experiment) RunTimes() int {
	return e.runTimes
}

// TaskInit 设置任务名。resultDefaults 非空且结果表不存在时立即按其建表。
func (e *Experiment) TaskInit(ctx context.Context, task string, resultDefaults entity.Params) error {
	logger := serviceLogger().With("service", "Experiment", "method", "TaskInit")
	task = entity.NormalizeName(task)
	if task == "" {
		return dao.ErrInvalidName
	}
	if task != e.task {
		e.resultDAO = nil
	}
	e.task = task
	e.taskSet = true

	if resultDefaults != nil {
		resultDAO, err := dao.OpenResultDAO(ctx, e.db, task, resultDefaults, e.imageSlots)
		if err != nil {
			logger.Error("task init failed", "task", task, "error", err)
			return err
		}
		e.resultDAO = resultDAO
	}
	logger.Info("task initialized", "task", task)
	return e.prepare(ctx)
}

// DataInit 记录数据集参数并返回数据 id；params 为空时 id 为 -1 且不建表。
func (e *Experiment) DataInit(ctx context.Context, name string, params entity.Params) (int64, error) {
	name = entity.NormalizeName(name)
	id, paramDAO, err := e.initParams(ctx, dao.ParamKindData, name, params)
	if err != nil {
		return 0, err
	}
	e.data, e.dataID, e.dataDAO, e.dataSet = name, id, paramDAO, true
	return id, e.prepare(ctx)
}

// MethodInit 记录方法参数并返回方法 id；params 为空时 id 为 -1 且不建表。
func (e *Experiment) MethodInit(ctx context.Context, name string, params entity.Params) (int64, error) {
	name = entity.NormalizeName(name)
	id, paramDAO, err := e.initParams(ctx, dao.ParamKindMethod, name, params)
	if err != nil {
		return 0, err
	}
	e.method, e.methodID, e.methodDAO, e.methodOK = name, id, paramDAO, true
	return id, e.prepare(ctx)
}

func (e *Experiment) initParams(ctx context.Context, kind dao.ParamKind, name string, params entity.Params) (int64, *dao.ParamDAO, error) {
	logger := serviceLogger().With("service", "Experiment", "method", "initParams", "kind", string(kind))
	if name == "" {
		return 0, nil, dao.ErrInvalidName
	}
	if len(params) == 0 {
		logger.Info("no parameters, table creation skipped", "table", kind.TableName(name))
		return entity.NoParamsID, nil, nil
	}

	paramDAO, err := dao.OpenParamDAO(ctx, e.db, kind, name, params)
	if err != nil {
		logger.Error("open param table failed", "name", name, "error", err)
		return 0, nil, err
	}
	id, err := paramDAO.Insert(ctx, params)
	if err != nil {
		logger.Error("record params failed", "name", name, "error", err)
		return 0, nil, err
	}
	logger.Info("params initialized", "name", name, "id", id)
	return id, paramDAO, nil
}

func (e *Experiment) ready() bool {
	return e.taskSet && e.dataSet && e.methodOK
}

// prepare 在三项初始化都完成后把会话推进到 ready；运行中重新初始化只影响下一次实验。
func (e *Experiment) prepare(ctx context.Context) error {
	if !e.ready() || !e.lifecycle.Can(sessionEventPrepare) {
		return nil
	}
	return fireEvent(ctx, e.lifecycle, sessionEventPrepare)
}

// ExperimentStart 在台账中开启一次实验并返回守卫。调用方应当立即 defer guard.Close(&err)。
func (e *Experiment) ExperimentStart(ctx context.Context, opts StartOptions) (*RunGuard, error) {
	logger := serviceLogger().With("service", "Experiment", "method", "ExperimentStart")
	if e.lifecycle.Is(SessionStarted) {
		return nil, fmt.Errorf("%w: experiment %d", ErrRunInProgress, e.id)
	}
	if !e.ready() {
		missing := lo.Compact([]string{
			lo.Ternary(e.dataSet, "", "data"),
			lo.Ternary(e.methodOK, "", "method"),
			lo.Ternary(e.taskSet, "", "task"),
		})
		logger.Warn("start failed: not initialized", "missing", missing)
		return nil, fmt.Errorf("%w: run %s init first", ErrNotInitialized, strings.Join(missing, ", "))
	}

	id, err := e.experiments.Start(ctx, entity.StartParams{
		Description:   opts.Description,
		Method:        e.method,
		MethodID:      e.methodID,
		Data:          e.data,
		DataID:        e.dataID,
		Task:          e.task,
		StartTime:     opts.StartTime,
		Tags:          strings.Join(opts.Tags, ","),
		Experimenters: strings.Join(opts.Experimenters, ","),
	})
	if err != nil {
		return nil, err
	}
	if err := fireEvent(ctx, e.lifecycle, sessionEventStart); err != nil {
		return nil, err
	}
	e.id = id
	e.detailDAO = nil
	e.runTimes++
	logger.Info("experiment run started", "id", id, "run_times", e.runTimes)
	return newRunGuard(e, id), nil
}

// ExperimentOver 记录结果与图片并把实验标记为 finished。
// 任务第一次记录结果时按 results 建结果表；之后的键必须是已声明结果列的子集。
func (e *Experiment) ExperimentOver(ctx context.Context, results entity.Params, images entity.Images, endTime *time.Time, usefulTimeCost *float64) error {
	logger := serviceLogger().With("service", "Experiment", "method", "ExperimentOver")
	if !e.lifecycle.Is(SessionStarted) {
		return fmt.Errorf("%w: run ExperimentStart first", ErrNotInitialized)
	}

	resultDAO, err := e.openResultDAO(ctx, results)
	if err != nil {
		logger.Error("experiment over failed: open result table", "id", e.id, "error", err)
		return err
	}
	if err := resultDAO.RecordResult(ctx, e.id, results); err != nil {
		return err
	}
	if err := resultDAO.RecordImages(ctx, e.id, images); err != nil {
		return err
	}
	if err := e.experiments.Finish(ctx, e.id, endTime, usefulTimeCost); err != nil {
		return err
	}
	logger.Info("experiment run finished", "id", e.id, "task", e.task)
	return e.closeRun(ctx)
}

func (e *Experiment) openResultDAO(ctx context.Context, results entity.Params) (*dao.ResultDAO, error) {
	if e.resultDAO == nil {
		exists := e.db.HasTable(dao.ResultTableName(e.task))
		resultDAO, err := dao.OpenResultDAO(ctx, e.db, e.task, results, e.imageSlots)
		if err != nil {
			return nil, err
		}
		e.resultDAO = resultDAO
		if !exists {
			return resultDAO, nil
		}
	}

	declared, err := e.resultDAO.NonImageColumns(ctx)
	if err != nil {
		return nil, err
	}
	extra, _ := lo.Difference(results.Keys(), declared)
	if len(extra) > 0 {
		return nil, fmt.Errorf("%w: %v not in %v", ErrResultSchemaMismatch, extra, declared)
	}
	return e.resultDAO, nil
}

// ExperimentFailed 把当前实验标记为 failed。
func (e *Experiment) ExperimentFailed(ctx context.Context, reason string, endTime *time.Time) error {
	if !e.lifecycle.Is(SessionStarted) {
		return fmt.Errorf("%w: run ExperimentStart first", ErrNotInitialized)
	}
	if err := e.experiments.Fail(ctx, e.id, reason, endTime); err != nil {
		return err
	}
	serviceLogger().With("service", "Experiment", "method", "ExperimentFailed").
		Info("experiment run failed", "id", e.id, "reason", firstLine(reason))
	return e.closeRun(ctx)
}

func (e *Experiment) closeRun(ctx context.Context) error {
	e.id = 0
	e.detailDAO = nil
	return fireEvent(ctx, e.lifecycle, sessionEventClose)
}

// DetailUpdate 向当前实验的明细表追加一行，第一次调用时按 values 建表。
func (e *Experiment) DetailUpdate(ctx context.Context, values entity.Params) error {
	if !e.lifecycle.Is(SessionStarted) {
		return fmt.Errorf("%w: run ExperimentStart first", ErrNotInitialized)
	}
	if e.detailDAO == nil {
		detailDAO, err := dao.OpenDetailDAO(ctx, e.db, e.id, values)
		if err != nil {
			return err
		}
		e.detailDAO = detailDAO
	}
	_, err := e.detailDAO.Insert(ctx, values)
	return err
}

// Close 关闭会话。仍在运行的实验会被标记为 failed。
func (e *Experiment) Close(ctx context.Context) error {
	var errs []error
	if e.lifecycle.Is(SessionStarted) {
		errs = append(errs, e.ExperimentFailed(ctx, "experiment session closed while running", nil))
	}
	errs = append(errs, e.db.Close())
	return errors.Join(errs...)
}

// fireEvent 触发状态迁移，目标状态与当前状态相同不视为错误。
func fireEvent(ctx context.Context, machine *fsm.FSM, event string) error {
	err := machine.Event(ctx, event)
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("session %s -> %s: %w", machine.Current(), event, err)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
