// Package watcher reports debounced, normalized filesystem changes below a
// folder, including trees reached through symbolic links.
//
// Raw notifications from a Source are queued and consumed by one worker per
// FileWatcher. Each burst is held until the folder has been quiet for the
// debounce delay, then reduced to the smallest equivalent set of Created,
// Deleted, Changed and Renamed events and handed to the registered listeners
// in arrival order.
package watcher
