package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New 构建业务日志器，由调用方显式传给各组件
// 日志同时写入标准错误和滚动文件，文件超过 5MB 轮转，保留 5 份
// verbose 为 true 时附带文件名行号；logFile 为空时只写标准错误
func New(logFile string, verbose bool) *log.Logger {
	flags := log.LstdFlags
	if verbose {
		flags |= log.Lshortfile
	}

	var w io.Writer = os.Stderr
	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    5, // MB
			MaxBackups: 5,
		}
		w = io.MultiWriter(os.Stderr, rotator)
	}
	return log.New(w, "", flags)
}
