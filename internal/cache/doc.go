// Package cache holds the invalidation side of the dashboard's query cache.
//
// The router derives keys from inbound frames (see keys.go) and hands them
// to an Invalidator. Local entries live in an LRU; other processes serving
// the same dashboards are told over NATS.
package cache
