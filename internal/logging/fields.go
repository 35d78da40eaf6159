package logging

import (
	"go.uber.org/zap"
)

// Field keys shared by every component so log queries line up.
const (
	KeyRunID     = "run_id"
	KeyCategory  = "category"
	KeyIteration = "iteration"
	KeyHandler   = "handler"
	KeyStage     = "stage"
	KeyRevision  = "revision"
)

func RunID(id string) zap.Field {
	return zap.String(KeyRunID, id)
}

func Category(name string) zap.Field {
	return zap.String(KeyCategory, name)
}

func Iteration(n int) zap.Field {
	return zap.Int(KeyIteration, n)
}

func Handler(id string) zap.Field {
	return zap.String(KeyHandler, id)
}

func Stage(name string) zap.Field {
	return zap.String(KeyStage, name)
}

func Revision(n int) zap.Field {
	return zap.Int(KeyRevision, n)
}
