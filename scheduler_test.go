package quanta

import (
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Scheduler", func() {
	var (
		sched *Scheduler
		now   SimTime
	)

	ginkgo.BeforeEach(func() {
		sched = NewScheduler()
		now = Epoch
	})

	ginkgo.It("dispatches entries in deadline order regardless of insertion order", func() {
		var order []int

		deadlines := []int64{5, 1, 3, 2, 4}
		for _, s := range deadlines {
			s := s
			_, err := sched.ScheduleAt(now, NewSimTime(s, 0), func(SimTime) {
				order = append(order, int(s))
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
		}

		sched.DispatchUpTo(NewSimTime(10, 0), func(firedAt SimTime, e *entry) {
			e.act.deliver(firedAt)
		})

		gomega.Expect(order).To(gomega.Equal([]int{1, 2, 3, 4, 5}))
	})

	ginkgo.It("breaks ties by insertion sequence", func() {
		var order []string

		_, _ = sched.ScheduleAt(now, NewSimTime(1, 0), func(SimTime) {
			order = append(order, "a")
		})
		_, _ = sched.ScheduleAt(now, NewSimTime(1, 0), func(SimTime) {
			order = append(order, "b")
		})

		sched.DispatchUpTo(NewSimTime(1, 0), func(firedAt SimTime, e *entry) {
			e.act.deliver(firedAt)
		})

		gomega.Expect(order).To(gomega.Equal([]string{"a", "b"}))
	})

	ginkgo.It("rejects a deadline before now", func() {
		_, err := sched.ScheduleAt(NewSimTime(5, 0), NewSimTime(4, 0), func(SimTime) {})
		gomega.Expect(err).To(gomega.HaveOccurred())

		var simErr *Error
		gomega.Expect(err).To(gomega.BeAssignableToTypeOf(simErr))
	})

	ginkgo.It("skips canceled entries at dispatch time", func() {
		fired := false

		handle, _ := sched.ScheduleAt(now, NewSimTime(1, 0), func(SimTime) {
			fired = true
		})
		handle.Cancel()

		sched.DispatchUpTo(NewSimTime(1, 0), func(firedAt SimTime, e *entry) {
			if e.canceled.Load() {
				return
			}
			e.act.deliver(firedAt)
		})

		gomega.Expect(fired).To(gomega.BeFalse())
	})

	ginkgo.It("reinserts periodic entries at deadline+period", func() {
		var fireTimes []int64

		_, err := sched.SchedulePeriodic(now, NewSimTime(1, 0), Duration(Second), func(t SimTime) {
			fireTimes = append(fireTimes, t.WholeSeconds())
		})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		deliver := func(firedAt SimTime, e *entry) { e.act.deliver(firedAt) }
		sched.DispatchUpTo(NewSimTime(1, 0), deliver)
		sched.DispatchUpTo(NewSimTime(2, 0), deliver)
		sched.DispatchUpTo(NewSimTime(3, 0), deliver)

		gomega.Expect(fireTimes).To(gomega.Equal([]int64{1, 2, 3}))
	})

	ginkgo.It("keeps a periodic handle valid across reinsertion, so canceling it after the first occurrence stops later ones", func() {
		var fireTimes []int64

		handle, err := sched.SchedulePeriodic(now, NewSimTime(1, 0), Duration(Second), func(t SimTime) {
			fireTimes = append(fireTimes, t.WholeSeconds())
		})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		deliver := func(firedAt SimTime, e *entry) {
			if e.canceled.Load() {
				return
			}
			e.act.deliver(firedAt)
		}

		sched.DispatchUpTo(NewSimTime(1, 0), deliver)
		handle.Cancel()
		sched.DispatchUpTo(NewSimTime(2, 0), deliver)
		sched.DispatchUpTo(NewSimTime(3, 0), deliver)

		gomega.Expect(fireTimes).To(gomega.Equal([]int64{1}))
	})

	ginkgo.It("reports the earliest non-canceled deadline", func() {
		h1, _ := sched.ScheduleAt(now, NewSimTime(1, 0), func(SimTime) {})
		_, _ = sched.ScheduleAt(now, NewSimTime(2, 0), func(SimTime) {})

		h1.Cancel()

		deadline, ok := sched.PeekNextDeadline()
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(deadline).To(gomega.Equal(NewSimTime(2, 0)))
	})
})
