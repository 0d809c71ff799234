/*
Package session guards access to persisted runs.

A Manager wraps any ports.RunStore with per-session locking so concurrent
requests for one run are serialized, optionally across processes through a
ports.DistributedLocker. It implements ports.RunStore itself, so the
sequencer can checkpoint through it.
*/
package session
