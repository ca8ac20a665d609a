// Package bootstrap drives the round-by-round harvest of patterns from a
// small seed set.
//
// # Overview
//
// Each round alternates between the two entity types. Patterns harvest
// contexts from the corpus, the contexts are scored and only the best of
// them survive, and the survivors harvest a fresh set of patterns. The
// scored patterns of round i are the seeds of round i+1.
//
// # Architecture
//
// The Controller owns the state machine and nothing else:
//   - every stage is a batch job on a batch.Processor
//   - extraction, scoring and top-K selection live in their own packages
//   - round directories are created and retired through a workspace.Manager
//   - run and round outcomes go to an optional storage.Journal
//
// Stages never see the controller. Each receives an explicit RoundState
// and the paths it derives, so a round can be reasoned about (and rerun)
// in isolation.
//
// # Rounds
//
//	<out>/0/patterns-scored/scored-patterns-raw   ingested seeds
//	<out>/i/contexts                              contexts harvested by round i-1 patterns
//	<out>/i/contexts-scored                       ranked contexts
//	<out>/i/contexts-scored-top                   the budget's worth of best contexts
//	<out>/i/patterns                              patterns harvested by those contexts
//	<out>/i/patterns-scored                       ranked patterns, next round's seeds
//
// The context budget of round i comes from a GrowthPolicy. With the
// default linear policy and NumContexts=100, rounds keep 100, 200 and 300
// contexts. A negative NumContexts keeps every scored context.
//
// # Failure
//
// The first stage error aborts the run. The failing round's directory is
// left on disk, the previous round's output stays the recovery point, and
// the journal records which round last completed.
//
// # Usage Example
//
//	cfg := config.DefaultHarvestConfig()
//	cfg.SeedPath = "seeds.txt"
//	cfg.CorpusPath = "corpus/"
//	cfg.OutputPath = "out/"
//	cfg.Iterations = 3
//
//	ctrl, err := bootstrap.New(bootstrap.Config{Harvest: cfg, Logger: log})
//	if err != nil {
//	    return err
//	}
//	result, err := ctrl.Run(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Println("patterns:", result.Patterns)
package bootstrap
