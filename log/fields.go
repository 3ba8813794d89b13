package log

import "go.uber.org/zap"

var (
	Skip     = zap.Skip
	Binary   = zap.Binary
	Bool     = zap.Bool
	String   = zap.String
	Strings  = zap.Strings
	Int      = zap.Int
	Int32    = zap.Int32
	Int64    = zap.Int64
	Uint32   = zap.Uint32
	Uint64   = zap.Uint64
	Float32  = zap.Float32
	Float64  = zap.Float64
	Float64s = zap.Float64s
	Time     = zap.Time
	Duration = zap.Duration
	Any      = zap.Any
	Stringer = zap.Stringer
)

func ErrorField(err error) Field {
	return zap.Error(err)
}
