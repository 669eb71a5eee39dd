// Package session persists finished group transcripts.
//
// Store is the storage contract; InMemoryStore keeps records in a process
// local map and the redis sub-package stores them as JSON in Redis. Add
// further backends in sub-packages; callers only depend on Store.
package session
