package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"PPFeed/tools/errs"
)

type countingPurger struct{ calls int }

func (c *countingPurger) PurgeExpired(context.Context) (int64, error) {
	c.calls++
	return 2, nil
}

func TestSweeperCron(t *testing.T) {
	if _, err := NewSweeper(&countingPurger{}, "not a cron"); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
	sw, err := NewSweeper(&countingPurger{}, "*/5 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	next, err := sw.Next(time.Date(2025, 1, 1, 10, 2, 30, 0, time.UTC))
	if err != nil || !next.Equal(time.Date(2025, 1, 1, 10, 5, 0, 0, time.UTC)) {
		t.Fatalf("next = %v err=%v", next, err)
	}
}

func TestSweeperRunOnce(t *testing.T) {
	p := &countingPurger{}
	sw, _ := NewSweeper(p, "")
	n, err := sw.RunOnce(context.Background())
	if err != nil || n != 2 || p.calls != 1 {
		t.Fatalf("n=%d err=%v calls=%d", n, err, p.calls)
	}
}
