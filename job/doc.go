// Package job defines the job record, the result state machine, the
// explicit type registry, and the store interface the engine depends on.
//
// # Job Record
//
// A [Description] is a leased job as handed out by the store: an opaque
// ID, a symbolic type name, a serialized input blob, and the earliest
// instant the job may run. The engine treats the record as exclusively
// owned until it releases the lease with a [Result].
//
// # Result State Machine
//
// Every execution produces exactly one result:
//
//	Finished()     terminal, irreversible
//	Reschedule(t)  same logical job, re-presented no earlier than t
//	Failed(msg)    terminal for this lease; the store's retry policy
//	               may re-present the job, which the engine sees as a
//	               fresh lease
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The definition's codec (JSON by
// default) decodes the input before the handler runs. engine.Enqueue
// encodes inputs with [DefaultCodec], not with the definition's codec:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, input EmailInput) (job.Result, error) {
//	        if err := mailer.Send(input.To, input.Subject); err != nil {
//	            return job.Result{}, err
//	        }
//	        return job.Finished(), nil
//	    },
//	)
//
// Jobs that need injected services set Build instead of Handler; the
// factory receives the [Resolver] at execution time.
//
// # Registry
//
// [Registry] maps job type names to [Factory] values. Registration is
// explicit at startup via [RegisterDefinition] or [RegisterFunc]; there
// is no runtime type scanning. The engine package provides higher-level
// engine.Register wrappers.
package job
