// Package hub holds the load-balancing state of a cluster's hub.
//
// Workers push [wire.LoadReport]s to their hub whenever their pool size
// changes enough. The [Balancer] turns those reports into per-worker load
// estimates (reported count plus what was dispatched since, minus what the
// worker confirmed as delivered) and keeps two indexed heaps over them:
//
//   - by estimated load, to pick the next dispatch target;
//   - by aggregate bound, to pick a donor when the hub has nothing to give
//     and a worker is starving.
//
// Ties in both heaps go to the lowest rank. Hubs also gossip cluster totals
// to each other; [Balancer.Surplus] and [Balancer.Richest] use them to move
// work between clusters.
package hub
