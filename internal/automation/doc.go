// Package automation provides receiver scenes.
//
// A scene is a named list of commands sent to one or more receivers, for
// example powering on the living room AVR, selecting the Blu-ray input and
// setting a listening volume. Actions run in groups: an action with
// Parallel set joins the previous action's group, otherwise it starts a
// new group. Groups run one after another.
//
//	┌──────────────────────────────────────────────┐
//	│               Engine (engine.go)              │
//	│  ┌──────────────┐    ┌────────────────┐      │
//	│  │   Registry   │───▶│   Repository   │      │
//	│  │(registry.go) │    │(repository.go) │      │
//	│  └──────────────┘    └────────────────┘      │
//	│         │                                     │
//	│         ▼                                     │
//	│  1. Load scene (cached)                       │
//	│  2. Group actions by parallel flag            │
//	│  3. Submit each group to the receivers        │
//	│  4. Record the execution                      │
//	└──────────────────────────────────────────────┘
//
// A Scheduler runs enabled scenes that carry a cron expression.
//
// Commands go through a Commander, which *avr.Registry satisfies, so they
// are validated against the command table and coalesced like any other
// submission.
//
// # Usage
//
//	repo := automation.NewSQLiteRepository(db)
//	scenes := automation.NewRegistry(repo)
//	if err := scenes.Load(ctx); err != nil {
//	    return err
//	}
//	engine := automation.NewEngine(scenes, receivers, repo, log)
//	exec, err := engine.ActivateScene(ctx, "movie-night", automation.TriggerManual, "api")
package automation
