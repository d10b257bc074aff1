package audit

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"time"

	"marketrouter/src/model"

	logger "github.com/sirupsen/logrus"
)

const (
	LevelWarn  = "warn"
	LevelError = "error"
)

type ExceptionStore interface {
	Create(ctx context.Context, exc *model.Exception) error
}

// Recorder records system exceptions of one service.
type Recorder struct {
	Store   ExceptionStore
	Service string
}

func NewRecorder(store ExceptionStore, service string) *Recorder {
	return &Recorder{Store: store, Service: service}
}

// Capture logs err and persists it as an Exception. A nil recorder or store only logs.
func (r *Recorder) Capture(
	ctx context.Context,
	module string,
	method string,
	level string,
	accountID *uint,
	err error,
	contextData map[string]interface{},
) {
	if err == nil {
		return
	}

	service := ""
	if r != nil {
		service = r.Service
	}

	var ctxJSON string
	if contextData != nil {
		if b, e := json.Marshal(contextData); e == nil {
			ctxJSON = string(b)
		}
	}

	exc := &model.Exception{
		Service:   service,
		Module:    module,
		Method:    method,
		Message:   err.Error(),
		Stack:     string(debug.Stack()),
		Level:     level,
		Context:   ctxJSON,
		AccountID: accountID,
		CreatedAt: time.Now(),
	}

	logger.WithFields(map[string]interface{}{
		"service": service,
		"module":  module,
		"method":  method,
		"level":   level,
	}).WithError(err).Error("System exception captured")

	if r == nil || r.Store == nil {
		return
	}
	// the caller's context may already be canceled
	if e := r.Store.Create(context.WithoutCancel(ctx), exc); e != nil {
		logger.WithError(e).Error("Failed to persist exception")
	}
}
