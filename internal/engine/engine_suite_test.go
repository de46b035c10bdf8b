package engine

import (
	"context"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
	"github.com/san-kum/cadsim/internal/logger"
)

func TestEngineSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Engine Suite")
}

// recorder logs every hook that fires, in order.
type recorder struct {
	events []string
}

func (r *recorder) hooks() experiment.Hooks {
	subset := func(c experiment.Context) string {
		if c.SubsetIndex == nil {
			return "none"
		}
		return fmt.Sprint(*c.SubsetIndex)
	}
	return experiment.Hooks{
		BeforeExperiment: func(*experiment.Experiment) { r.add("before_experiment") },
		AfterExperiment:  func(*experiment.Experiment) { r.add("after_experiment") },
		BeforeSimulation: func(s *experiment.Simulation) { r.add(fmt.Sprintf("before_simulation %d", s.Index)) },
		AfterSimulation:  func(s *experiment.Simulation) { r.add(fmt.Sprintf("after_simulation %d", s.Index)) },
		BeforeRun: func(c experiment.Context) {
			r.add(fmt.Sprintf("before_run %d/%s", c.RunIndex, subset(c)))
		},
		AfterRun: func(c experiment.Context) {
			r.add(fmt.Sprintf("after_run %d/%s", c.RunIndex, subset(c)))
		},
		BeforeSubset: func(c experiment.Context) {
			r.add(fmt.Sprintf("before_subset %d/%s", c.RunIndex, subset(c)))
		},
		AfterSubset: func(c experiment.Context) {
			r.add(fmt.Sprintf("after_subset %d/%s", c.RunIndex, subset(c)))
		},
	}
}

func (r *recorder) add(event string) { r.events = append(r.events, event) }

var _ = Describe("Engine", func() {
	var (
		eng *Engine
		rec *recorder
	)

	BeforeEach(func() {
		var err error
		eng, err = New(
			WithBackend(config.SingleProcess),
			WithLogger(logger.Discard()),
			WithRegistry(testRegistry()),
		)
		Expect(err).NotTo(HaveOccurred())
		rec = &recorder{}
	})

	run := func(sims ...*experiment.Simulation) *Output {
		exp := experiment.New(sims...)
		exp.Hooks = rec.hooks()
		out, err := eng.Run(context.Background(), exp)
		Expect(err).NotTo(HaveOccurred())
		return out
	}

	Context("without a sweep", func() {
		It("brackets each run with before_run and after_run", func() {
			run(experiment.NewSimulation(incrementModel(dynamo.ParamSpace{"a": {1}}), 1, 2))

			Expect(rec.events).To(Equal([]string{
				"before_experiment",
				"before_simulation 0",
				"before_run 0/0",
				"after_run 0/0",
				"before_run 1/0",
				"after_run 1/0",
				"after_simulation 0",
				"after_experiment",
			}))
		})

		It("produces exactly runs descriptors", func() {
			out := run(experiment.NewSimulation(incrementModel(dynamo.ParamSpace{"a": {1}, "b": {"x"}}), 1, 4))
			Expect(out.Raw).To(HaveLen(4))
		})
	})

	Context("with a sweep", func() {
		It("fires before_run twice and never after_run", func() {
			run(experiment.NewSimulation(incrementModel(dynamo.ParamSpace{"a": {1, 2, 3}}), 1, 1))

			Expect(rec.events).To(Equal([]string{
				"before_experiment",
				"before_simulation 0",
				"before_run 0/none",
				"before_subset 0/0",
				"after_subset 0/0",
				"before_subset 0/1",
				"after_subset 0/1",
				"before_subset 0/2",
				"after_subset 0/2",
				"before_run 0/2",
				"after_simulation 0",
				"after_experiment",
			}))
			Expect(rec.events).NotTo(ContainElement(HavePrefix("after_run")))
		})

		It("produces runs times subsets descriptors in order", func() {
			model := incrementModel(dynamo.ParamSpace{"a": {1, 2, 3}, "b": {10, 20}})
			out := run(experiment.NewSimulation(model, 1, 2))
			Expect(out.Raw).To(HaveLen(6))

			var tags [][2]int
			for _, o := range out.Raw {
				s := o.Result[0][0]
				tags = append(tags, [2]int{s.Run, s.Subset})
			}
			Expect(tags).To(Equal([][2]int{{1, 0}, {1, 1}, {1, 2}, {2, 0}, {2, 1}, {2, 2}}))
		})
	})

	Context("with several simulations", func() {
		It("indexes simulations in the order they were added", func() {
			out := run(
				experiment.NewSimulation(incrementModel(nil), 1, 1),
				experiment.NewSimulation(incrementModel(nil), 2, 1),
			)
			Expect(rec.events).To(ContainElements("before_simulation 0", "after_simulation 1"))
			Expect(out.Raw[0].Result[0][0].Simulation).To(Equal(0))
			Expect(out.Raw[1].Result[0][0].Simulation).To(Equal(1))
			Expect(out.Raw[1].Result).To(HaveLen(3))
		})

		It("fires the simulation hook after the experiment hook", func() {
			sim := experiment.NewSimulation(incrementModel(nil), 1, 1)
			sim.Hooks.BeforeRun = func(experiment.Context) { rec.add("simulation before_run") }
			run(sim)

			Expect(rec.events[2:4]).To(Equal([]string{"before_run 0/0", "simulation before_run"}))
		})
	})
})
