package logging

import (
	"encoding/json"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/countersign/countersign/logger"
)

// Helper writes logs to io.Writers. Helper implements the logger.Logger
// interface. Writing happens concurrently without blocking the caller.
type Helper struct {
	callOnErr   func(error)
	callOnFatal func(error)
	writers     []io.Writer
}

// New creates a new Helper writing to all given writers.
func New(callOnErr func(error), callOnFatal func(error), writers ...io.Writer) Helper {
	return Helper{callOnErr: callOnErr, callOnFatal: callOnFatal, writers: writers}
}

// Debug writes a debug level log.
func (h Helper) Debug(msg string) {
	h.write("debug", msg)
}

// Info writes an info level log.
func (h Helper) Info(msg string) {
	h.write("info", msg)
}

// Warn writes a warning level log.
func (h Helper) Warn(msg string) {
	h.write("warn", msg)
}

// Error writes an error level log.
func (h Helper) Error(msg string) {
	h.write("error", msg)
}

// Fatal writes a fatal level log and triggers the fatal callback.
func (h Helper) Fatal(msg string) {
	h.write("fatal", msg)
	h.callOnFatal(errorMsg(msg))
}

type errorMsg string

func (e errorMsg) Error() string {
	return string(e)
}

func (h Helper) write(level, msg string) {
	l := logger.Log{
		ID:        primitive.NewObjectID(),
		Level:     level,
		Msg:       msg,
		CreatedAt: time.Now(),
	}
	go func() {
		raw, err := json.Marshal(&l)
		if err != nil {
			h.callOnErr(err)
			return
		}
		for _, w := range h.writers {
			if _, err := w.Write(raw); err != nil {
				h.callOnErr(err)
			}
		}
	}()
}
