/*
Package probe polls an HTTP(S) health endpoint until it reports healthy or
a bound is hit.

The loop is bounded twice: by an attempt budget and by a wall-clock
timeout, and the two produce distinct outcomes because they require
different operator responses:

  - Healthy: a response with an accepted status code (and the success
    token in the body, when one is configured) arrived before the bounds.
  - Unhealthy: the attempt budget ran out but the endpoint did answer at
    least once. The application is up and telling us it is not ready.
  - Unreachable: the attempt budget ran out and no attempt got a response
    at all. The application (or the network path to it) is down.
  - TimedOut: the wall-clock budget ran out first, or the caller
    cancelled the loop.

Polling rather than a single check is required because process-manager
restarts are asynchronous: the endpoint takes nonzero, variable time to
become reachable after a deploy.
*/
package probe
