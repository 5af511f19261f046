package steplog

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/nasqa/uut-harness/framework/results"
)

var epoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func TestTestStepRecordsInOrder(t *testing.T) {
	fake := testingclock.NewFakeClock(epoch)
	log := New(zap.NewNop(), WithClock(fake))

	log.TestStep("connect adb", results.StatusPassed)
	fake.Step(time.Second)
	log.TestStep("check firmware", "", "build 5.26.113")
	log.SetIteration(2)
	fake.Step(time.Second)
	log.TestStep("mount share", results.StatusFailed, "smb timeout")

	expected := []results.StepResult{
		{Index: 1, Iteration: 1, Description: "connect adb", Status: results.StatusPassed, StartTime: epoch, EndTime: epoch},
		{Index: 2, Iteration: 1, Description: "check firmware", Messages: []string{"build 5.26.113"}, Status: results.StatusPassed,
			StartTime: epoch.Add(time.Second), EndTime: epoch.Add(time.Second)},
		{Index: 3, Iteration: 2, Description: "mount share", Messages: []string{"smb timeout"}, Status: results.StatusFailed,
			StartTime: epoch.Add(2 * time.Second), EndTime: epoch.Add(2 * time.Second)},
	}
	if diff := cmp.Diff(expected, log.Steps()); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, log.IterationSteps(1), 2)
	assert.Len(t, log.IterationSteps(2), 1)
}

func TestBeginFinish(t *testing.T) {
	fake := testingclock.NewFakeClock(epoch)
	log := New(nil, WithClock(fake))

	install := log.Begin("install app")
	flash := log.Begin("flash firmware")
	fake.Step(3 * time.Second)
	flash.AddMessage("image %s", "v2")
	flashed := flash.Fail(errors.New("checksum mismatch"))
	fake.Step(time.Second)
	installed := install.Pass()

	assert.Equal(t, 1, installed.Index)
	assert.Equal(t, 2, flashed.Index)
	assert.Equal(t, 4*time.Second, installed.Duration)
	assert.Equal(t, 3*time.Second, flashed.Duration)
	assert.Equal(t, "checksum mismatch", flashed.Error)
	assert.Equal(t, []string{"image v2"}, flashed.Messages)

	again := flash.Pass()
	assert.Equal(t, results.StatusFailed, again.Status)
}

func TestFinishNeverEndsBeforeStart(t *testing.T) {
	fake := testingclock.NewFakePassiveClock(epoch)
	log := New(nil, WithClock(fake))
	step := log.Begin("factory reset")
	fake.SetTime(epoch.Add(-time.Minute))
	result := step.Pass()
	assert.Equal(t, result.StartTime, result.EndTime)
	assert.Zero(t, result.Duration)
}

func TestIndexesStrictlyIncreaseAcrossGoroutines(t *testing.T) {
	log := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				log.TestStep("quick", results.StatusPassed)
				return
			}
			log.Begin("slow").Pass()
		}()
	}
	wg.Wait()

	steps := log.Steps()
	require.Len(t, steps, 50)
	indexes := make([]int, 0, len(steps))
	for i, step := range steps {
		assert.Equal(t, i+1, step.Index)
		indexes = append(indexes, step.Index)
	}
	assert.True(t, sort.IntsAreSorted(indexes))
}

func TestGenErrMsg(t *testing.T) {
	log := New(nil)
	assert.Empty(t, log.GenErrMsg())
	assert.False(t, log.HasFailures())

	log.TestStep("power on", results.StatusPassed)
	log.TestStep("wifi switch", results.StatusSkipped, "no 5G radio")
	assert.False(t, log.HasFailures())

	step := log.Begin("led state")
	step.AddMessage("expected solid blue")
	step.Fail(errors.New("led blinking amber"))

	assert.True(t, log.HasFailures())
	assert.Len(t, log.Errors(), 2)
	assert.Equal(t,
		"Step 2 (iteration 1) skipped: wifi switch\n"+
			"    no 5G radio\n"+
			"Step 3 (iteration 1) failed: led state\n"+
			"    error: led blinking amber\n"+
			"    expected solid blue",
		log.GenErrMsg())
}

func TestStepLinesUseNamedLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := New(zap.New(core))
	log.TestStep("reboot", results.StatusPassed, "uptime reset")
	log.TestStep("ota", results.StatusError)
	log.PrintErrors()

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, LoggerName, entries[0].LoggerName)
	assert.Equal(t, StepLevel, entries[0].Level)
	assert.Equal(t, "reboot", entries[0].Message)
	assert.Equal(t, int64(1), entries[0].ContextMap()["index"])
	assert.Equal(t, "error", entries[1].ContextMap()["status"])
	assert.Equal(t, "Step 2 (iteration 1) error: ota", entries[2].Message)
}
