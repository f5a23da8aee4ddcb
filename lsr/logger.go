package lsr

import (
	"log"

	"github.com/fatih/color"
	"go.uber.org/zap"
)

// Logger is a zap logger tagged with the stage of the pass it logs for.
type Logger struct {
	*zap.SugaredLogger
	module string
}

// Module returns (stylised) module name.
func (l *Logger) Module() string {
	return l.module
}

// With returns a logger sharing l's sink for the named stage.
func (l *Logger) With(module string, attr color.Attribute) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger,
		module:        color.New(attr).Sprint(module),
	}
}

// NewLogger returns a production logger with colours off.
func NewLogger() *Logger {
	color.NoColor = true
	l, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Cannot create new logger:", err)
	}
	return &Logger{SugaredLogger: l.Sugar(), module: "lsr"}
}

// NewDevelopmentLogger returns a logger printing debug output.
func NewDevelopmentLogger() *Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal("Cannot create new logger:", err)
	}
	return &Logger{SugaredLogger: l.Sugar(), module: color.CyanString("lsr")}
}

// NewFileLogger returns a development logger also writing to files.
func NewFileLogger(files ...string) *Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = append(cfg.OutputPaths, files...)
	l, err := cfg.Build()
	if err != nil {
		log.Fatal("Cannot create new logger:", err)
	}
	return &Logger{SugaredLogger: l.Sugar(), module: color.CyanString("lsr")}
}

// NopLogger discards everything.
func NopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), module: "lsr"}
}

// stageLoggers are the per-stage loggers of one run.
type stageLoggers struct {
	collect, chain, gen, narrow, solve, rewrite *Logger
}

func newStageLoggers(l *Logger) stageLoggers {
	return stageLoggers{
		collect: l.With("collect", color.FgGreen),
		chain:   l.With("chain", color.FgMagenta),
		gen:     l.With("gen", color.FgBlue),
		narrow:  l.With("narrow", color.FgYellow),
		solve:   l.With("solve", color.FgCyan),
		rewrite: l.With("rewrite", color.FgRed),
	}
}
