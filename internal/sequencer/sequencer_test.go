package sequencer_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"nixo.app/triage/internal/sequencer"
)

var _ = Describe("Sequencer", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		seq    *sequencer.Sequencer
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		seq = sequencer.New(16)
	})

	AfterEach(func() {
		cancel()
		seq.Stop()
	})

	start := func() {
		go seq.Run(ctx)
	}

	It("runs units one at a time", func() {
		start()

		var active, peak int32
		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				err := seq.Do(ctx, "unit", func(context.Context) error {
					n := atomic.AddInt32(&active, 1)
					for {
						p := atomic.LoadInt32(&peak)
						if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					atomic.AddInt32(&active, -1)
					return nil
				})
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		Expect(atomic.LoadInt32(&peak)).To(Equal(int32(1)))
	})

	It("runs units in arrival order", func() {
		var mu sync.Mutex
		var order []int
		var wg sync.WaitGroup

		for i := range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = seq.Do(ctx, "ordered", func(context.Context) error {
					mu.Lock()
					order = append(order, i)
					mu.Unlock()
					return nil
				})
			}()
			Eventually(seq.Pending).Should(Equal(i + 1))
		}

		start()
		wg.Wait()

		Expect(order).To(Equal([]int{0, 1, 2, 3, 4}))
	})

	It("returns the unit's error", func() {
		start()
		boom := errors.New("store unavailable")

		err := seq.Do(ctx, "failing", func(context.Context) error { return boom })

		Expect(err).To(MatchError(boom))
	})

	It("recovers panics and keeps serving", func() {
		start()

		err := seq.Do(ctx, "panicking", func(context.Context) error { panic("nil ticket") })
		Expect(err).To(MatchError(sequencer.ErrPanic))
		Expect(err.Error()).To(ContainSubstring("nil ticket"))

		ran := false
		err = seq.Do(ctx, "after", func(context.Context) error {
			ran = true
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ran).To(BeTrue())
	})

	It("skips units whose caller gave up while queued", func() {
		waitCtx, waitCancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer waitCancel()

		var ran atomic.Bool
		err := seq.Do(waitCtx, "abandoned", func(context.Context) error {
			ran.Store(true)
			return nil
		})
		Expect(err).To(MatchError(context.DeadlineExceeded))

		start()
		Expect(seq.Do(ctx, "next", func(context.Context) error { return nil })).To(Succeed())
		Expect(ran.Load()).To(BeFalse())
	})

	It("finishes a started unit after its caller gives up", func() {
		start()

		callerCtx, callerCancel := context.WithCancel(ctx)
		running := make(chan struct{})
		release := make(chan struct{})
		var unitErr atomic.Value
		var finished atomic.Bool

		result := make(chan error, 1)
		go func() {
			result <- seq.Do(callerCtx, "long", func(ctx context.Context) error {
				close(running)
				<-release
				unitErr.Store(fmt.Sprint(ctx.Err()))
				finished.Store(true)
				return nil
			})
		}()
		Eventually(running).Should(BeClosed())

		callerCancel()
		Consistently(result, 20*time.Millisecond).ShouldNot(Receive())

		close(release)
		Eventually(result).Should(Receive(BeNil()))
		Expect(finished.Load()).To(BeTrue())
		Expect(unitErr.Load()).To(Equal("<nil>"))
	})

	It("runs queued units before Stop returns", func() {
		start()

		release := make(chan struct{})
		running := make(chan struct{})
		var done atomic.Int32
		var wg sync.WaitGroup

		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = seq.Do(ctx, "blocking", func(context.Context) error {
				close(running)
				<-release
				done.Add(1)
				return nil
			})
		}()
		Eventually(running).Should(BeClosed())

		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = seq.Do(ctx, "queued", func(context.Context) error {
					done.Add(1)
					return nil
				})
			}()
		}
		Eventually(seq.Pending).Should(Equal(2))

		stopped := make(chan struct{})
		go func() {
			seq.Stop()
			close(stopped)
		}()
		Consistently(stopped, 20*time.Millisecond).ShouldNot(BeClosed())

		close(release)
		Eventually(stopped).Should(BeClosed())
		wg.Wait()
		Expect(done.Load()).To(Equal(int32(3)))
	})

	It("rejects units after Stop", func() {
		start()
		seq.Stop()

		err := seq.Do(ctx, "late", func(context.Context) error { return nil })

		Expect(err).To(MatchError(sequencer.ErrStopped))
	})

	It("stops without ever running", func() {
		done := make(chan struct{})
		go func() {
			seq.Stop()
			close(done)
		}()
		Eventually(done).Should(BeClosed())
	})

	It("exits when its context is cancelled", func() {
		exited := make(chan struct{})
		go func() {
			seq.Run(ctx)
			close(exited)
		}()

		cancel()

		Eventually(exited).Should(BeClosed())
		Expect(seq.Do(context.Background(), "late", func(context.Context) error { return nil })).To(MatchError(sequencer.ErrStopped))
	})
})
