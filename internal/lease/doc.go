// Package lease implements the Busy/Ready registry shared by the executer's
// query coordinators and the worker's query processors.
//
// An operation on a query first acquires its entry, which hands the stored
// value to the caller and flips the entry to Busy. A concurrent operation on
// the same key fails immediately with ErrBusy; nothing is queued. When the
// holder is done it releases the value back, flipping the entry to Ready.
//
// Forgetting a Busy entry does not wait for the holder: the entry is marked
// and the value is dropped on Release, while the caller still gets ErrBusy.
package lease
