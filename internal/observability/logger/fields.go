package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }
func ClientIP(v string) zap.Field  { return zap.String("client_ip", v) }

// Duration records an elapsed time in milliseconds.
func Duration(v time.Duration) zap.Field { return zap.Int64("duration_ms", v.Milliseconds()) }

// Domain

func IdentityID(v string) zap.Field     { return zap.String("identity_id", v) }
func SessionID(v string) zap.Field      { return zap.String("session_id", v) }
func SubscriptionID(v string) zap.Field { return zap.String("subscription_id", v) }
func ModuleKey(v string) zap.Field      { return zap.String("module_key", v) }
func Channel(v string) zap.Field        { return zap.String("channel", v) }
func ChallengeID(v string) zap.Field    { return zap.String("challenge_id", v) }

// Generic

func Component(v string) zap.Field    { return zap.String("component", v) }
func Op(v string) zap.Field           { return zap.String("op", v) }
func Count(v int64) zap.Field         { return zap.Int64("count", v) }
func String(key, v string) zap.Field  { return zap.String(key, v) }
func Int(key string, v int) zap.Field { return zap.Int(key, v) }

// Err records err under "error"; nil yields a skipped field.
func Err(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.Error(err)
}
