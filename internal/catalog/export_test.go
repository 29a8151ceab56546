package catalog

import (
	"context"
	"time"
)

func SetSleep(r *Reconciler, fn func(context.Context, time.Duration) error) {
	r.sleep = fn
}
