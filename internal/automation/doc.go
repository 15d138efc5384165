// Package automation provides the gateway's rule engines: scheduled
// publications, message triggers and response correlation.
//
// Data flow:
//
//	inbound message ──▶ Correlator.Resolve ──▶ TriggerEngine.Process
//	                          ▲                        │
//	                          │ Arm                    ▼ publish / notify
//	cron runner ──▶ TaskEngine.execute ──────────▶ Publisher (broker)
//
// # Key Types
//
//   - Task: A scheduled publication with an optional response block
//   - Trigger: A topic pattern, payload condition and action
//   - TaskEngine: Cron runner over the active server's tasks
//   - TriggerEngine: Ordered trigger table evaluated per message
//   - Correlator: One pending response expectation per topic
//
// # Conditions
//
// EvaluateCondition accepts a single comparison (`temp > 25`,
// `state.power == 'on'`, `reading != null`) or, failing that, a boolean
// expression over the payload's top-level fields evaluated by expr with
// every builtin disabled. Response conditions may also address the
// payload as `$.field.sub OP literal`.
//
// # Thread Safety
//
// All engines are safe for concurrent use. No engine holds its lock while
// publishing, persisting or broadcasting.
//
// # Usage
//
//	tasks := automation.NewTaskEngine(taskRepo, session, hub, session, store)
//	correlator := automation.NewCorrelator(session, session, hub, session)
//	correlator.SetTaskCounter(tasks)
//	tasks.SetResponder(correlator)
//
//	if err := tasks.Load(ctx, "Localhost"); err != nil {
//	    return err
//	}
//	tasks.Start()
package automation
