package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// RunGuard 绑定一次实验运行的作用域：
//
//	guard, err := exp.ExperimentStart(ctx, opts)
//	if err != nil { return err }
//	defer guard.Close(&err)
//
// 作用域结束时若实验仍在运行，则把它标记为 failed（记录错误信息或 panic 及调用栈），
// panic 会在记录后继续向上抛出。ExperimentOver/ExperimentFailed 正常结束后 Close 不做任何事。
type RunGuard struct {
	exp  *Experiment
	id   int64
	once sync.Once
}

func newRunGuard(exp *Experiment, id int64) *RunGuard {
	return &RunGuard{exp: exp, id: id}
}

// ID 返回守卫对应的实验 id。
func (g *RunGuard) ID() int64 {
	return g.id
}

// Close 必须直接被 defer 调用，否则无法捕获 panic。errp 可以为 nil。
func (g *RunGuard) Close(errp *error) {
	if r := recover(); r != nil {
		g.markFailed(fmt.Sprintf("panic: %v\n%s", r, debug.Stack()))
		panic(r)
	}

	var reason string
	if errp != nil && *errp != nil {
		reason = (*errp).Error()
	} else {
		reason = "experiment scope exited before ExperimentOver"
	}
	if err := g.markFailed(reason); err != nil && errp != nil {
		*errp = errors.Join(*errp, err)
	}
}

func (g *RunGuard) markFailed(reason string) error {
	var err error
	g.once.Do(func() {
		if g.exp == nil || g.exp.ID() != g.id || !g.exp.lifecycle.Is(SessionStarted) {
			return
		}
		logger := serviceLogger().With("service", "RunGuard", "method", "Close")
		logger.Warn("experiment still running on scope exit, marking failed", "id", g.id, "reason", firstLine(reason))
		err = g.exp.ExperimentFailed(context.Background(), reason, nil)
		if err != nil {
			logger.Error("mark experiment failed failed", "id", g.id, "error", err)
		}
	})
	return err
}
