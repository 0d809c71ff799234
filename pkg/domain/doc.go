/*
Package domain contains the core domain models of the zenforge pipeline.

It defines the record threaded through every step of a run, the closed set of
step outputs, the resource slot record and the error taxonomy. This package is
kept pure and free of external dependencies like I/O or persistence, following
Hexagonal Architecture principles.

# Key Entities

  - RunContext: the shared context of a single run (input, accumulated outputs, errors).
  - Output: a tagged step result (IntentOutput, PlanOutput, FindingOutput, ...).
  - Slot: the single model residency record owned by the slot manager.
  - Evidence: a retrieval result consumed by grounding steps.
*/
package domain
