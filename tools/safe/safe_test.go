package safe

import (
	"sync"
	"testing"
)

func TestRunRecovers(t *testing.T) {
	ran := false
	Run("test", func() {
		ran = true
		panic("boom")
	})
	if !ran {
		t.Fatalf("f not called")
	}
}

func TestSafeGo(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	SafeGo("test", func() {
		defer wg.Done()
		panic("boom")
	})
	wg.Wait()
}
