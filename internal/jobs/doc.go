// Package jobs is the job catalogue run by the jobkit binary.
//
// It defines four jobs over three queues:
//
//   - send-email (emails): delivers one message through an email.Sender.
//   - export-transactions (exports): splits the requested transaction ids
//     into export-transactions-chunk children, parks until they finish, then
//     writes a zipped CSV to artifact storage and optionally enqueues a
//     send-email notification.
//   - export-transactions-chunk (exports): loads one slice of transactions.
//   - cleanup-exports (maintenance): deletes export archives past a maximum
//     age; RegisterSchedules runs it nightly.
//
// Register needs the queues in place first, either from a topology file or
// from Queues.
package jobs
