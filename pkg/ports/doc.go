/*
Package ports defines the driven ports (interfaces) of the zenforge pipeline.

These interfaces decouple the sequencer and the slot manager from concrete
transports and storage, so the same core runs against a local inference
server, a fake in tests, Redis, or plain files.

# Key Interfaces

  - InferenceClient: warms, unloads and queries a model on the inference endpoint.
  - DistributedLocker: cross-process exclusivity for the single resource slot.
  - RunStore: checkpoints the shared context of a run.
  - Retriever / Citer: evidence lookup and stable citation ids for grounding.
*/
package ports
