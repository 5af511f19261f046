package executor_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/nasqa/uut-harness/framework/executor"
)

var _ = Describe("Executor", func() {
	var (
		exec *executor.Executor
		ctx  context.Context
	)

	BeforeEach(func() {
		exec = executor.New(zap.NewNop())
		ctx = context.Background()
	})

	It("joins every worker before returning", func() {
		const n = 8
		var finished int32
		for i := 0; i < n; i++ {
			Expect(exec.AppendThreadByFunc(func(context.Context) error {
				time.Sleep(time.Duration(i) * time.Millisecond)
				atomic.AddInt32(&finished, 1)
				return nil
			}, "")).To(Succeed())
		}
		Expect(exec.Len()).To(Equal(n))

		Expect(exec.RunThreads(ctx)).To(Succeed())
		Expect(atomic.LoadInt32(&finished)).To(Equal(int32(n)))
		Expect(exec.State()).To(Equal(executor.Reported))
		Expect(exec.AllErrors()).To(BeNil())
	})

	It("waits for the other workers before surfacing a failure", func() {
		boom := errors.New("boom")
		var completed sync.Map
		for i := 1; i <= 3; i++ {
			name := fmt.Sprintf("target-%d", i)
			Expect(exec.AppendThreadByFunc(func(context.Context) error {
				if i == 2 {
					return boom
				}
				time.Sleep(20 * time.Millisecond)
				completed.Store(name, true)
				return nil
			}, name)).To(Succeed())
		}

		err := exec.RunThreads(ctx)
		Expect(err).To(MatchError(boom))
		_, first := completed.Load("target-1")
		_, third := completed.Load("target-3")
		Expect(first).To(BeTrue())
		Expect(third).To(BeTrue())

		results := exec.Results()
		Expect(results).To(HaveLen(3))
		Expect(results[0].Err).To(BeNil())
		Expect(results[1].Name).To(Equal("target-2"))
		Expect(results[1].Err).To(MatchError(boom))
		Expect(results[2].Err).To(BeNil())
		for _, result := range results {
			Expect(result.EndTime).NotTo(BeTemporally("<", result.StartTime))
		}
	})

	It("converts panics into errors", func() {
		Expect(exec.AppendThreadByFunc(func(context.Context) error {
			panic("usb slurp crashed")
		}, "slurp")).To(Succeed())
		Expect(exec.AppendThreadByFunc(func(context.Context) error { return nil }, "install")).To(Succeed())

		err := exec.RunThreads(ctx)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("slurp panicked: usb slurp crashed"))
	})

	It("aggregates every failure", func() {
		for _, name := range []string{"a", "b", "c"} {
			Expect(exec.AppendThreadByFunc(func(context.Context) error {
				if name == "b" {
					return nil
				}
				return errors.New(name + " failed")
			}, name)).To(Succeed())
		}
		Expect(exec.RunThreads(ctx)).NotTo(Succeed())
		all := exec.AllErrors()
		Expect(all).To(HaveOccurred())
		Expect(all.Error()).To(ContainSubstring("a: a failed"))
		Expect(all.Error()).To(ContainSubstring("c: c failed"))
	})

	It("passes the worker name through the context", func() {
		names := make(chan string, 1)
		Expect(exec.AppendThreadByFunc(func(ctx context.Context) error {
			names <- executor.WorkerName(ctx)
			return nil
		}, "flash-firmware")).To(Succeed())
		Expect(exec.RunThreads(ctx)).To(Succeed())
		Eventually(names).Should(Receive(Equal("flash-firmware")))
	})

	It("is single use", func() {
		Expect(exec.RunThreads(ctx)).To(Succeed())
		Expect(exec.RunThreads(ctx)).To(MatchError(executor.ErrAlreadyRun))
		Expect(exec.AppendThreadByFunc(func(context.Context) error { return nil }, "late")).To(MatchError(executor.ErrNotIdle))
	})

	It("rejects nil targets", func() {
		Expect(exec.AppendThreadByFunc(nil, "nil")).NotTo(Succeed())
		Expect(exec.Len()).To(BeZero())
	})

	It("reports running while workers are in flight", func() {
		release := make(chan struct{})
		Expect(exec.AppendThreadByFunc(func(context.Context) error {
			<-release
			return nil
		}, "blocked")).To(Succeed())

		done := make(chan error, 1)
		go func() { done <- exec.RunThreads(ctx) }()

		Eventually(exec.State).Should(Equal(executor.Running))
		Consistently(done, 50*time.Millisecond).ShouldNot(Receive())
		close(release)
		Eventually(done).Should(Receive(BeNil()))
	})

	It("honours the concurrency limit", func() {
		limited := executor.New(zap.NewNop(), executor.WithLimit(2))
		var running, peak int32
		for i := 0; i < 6; i++ {
			Expect(limited.AppendThreadByFunc(func(context.Context) error {
				now := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if now <= old || atomic.CompareAndSwapInt32(&peak, old, now) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			}, "")).To(Succeed())
		}
		Expect(limited.RunThreads(ctx)).To(Succeed())
		Expect(atomic.LoadInt32(&peak)).To(BeNumerically("<=", 2))
	})
})

var _ = Describe("Workers", func() {
	It("fans out one worker per index", func() {
		workers, err := executor.NewWorkers(4, func(i int) (string, error) {
			return fmt.Sprintf("user%d", i), nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(workers.Len()).To(Equal(4))
		Expect(workers.At(2)).To(Equal("user2"))

		exec := executor.New(nil)
		seen := make([]string, workers.Len())
		Expect(executor.FanOut(exec, "install_app", workers, func(ctx context.Context, i int, user string) error {
			Expect(executor.WorkerName(ctx)).To(Equal(fmt.Sprintf("install_app-%d", i)))
			seen[i] = user
			return nil
		})).To(Succeed())
		Expect(exec.RunThreads(context.Background())).To(Succeed())
		Expect(seen).To(Equal(workers.All()))
	})

	It("stops building on the first error", func() {
		_, err := executor.NewWorkers(3, func(i int) (int, error) {
			if i == 1 {
				return 0, errors.New("no free slot")
			}
			return i, nil
		})
		Expect(err).To(MatchError(ContainSubstring("build worker 1: no free slot")))
	})
})
