// Package logx provides a small structured logging facade over zerolog.
//
// Components receive a Logger by value and derive scoped loggers with
// With(). The Service variant supports swapping sinks and levels at
// runtime, which the app uses for config hot reload.
package logx
