// Package scheduler runs fetch jobs on a fixed pool of workers.
//
// Submit only enqueues; it blocks while the bounded queue is full and never
// waits for a job to finish. Each job produces exactly one record on the
// configured sink: INFO when the file was saved, ERROR with the reason
// otherwise. Drain waits for everything submitted so far; Close drains and
// stops the pool.
package scheduler
