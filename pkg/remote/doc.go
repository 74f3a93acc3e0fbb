/*
Package remote executes commands on target hosts over SSH.

Failures fall into three classes, and the distinction drives retry policy:

  - ConnectionError: the host could not be reached or authenticated.
    Retryable; the executor retries these itself with doubling backoff,
    bounded by MaxRetries. No layer above retries connections.
  - CommandLaunchError: a session was established but the command could
    not start. Not retried.
  - A CommandResult with non-zero exit status: the command ran and
    failed. A semantic deploy failure, never an infrastructure one, and
    never retried blindly: re-running a partially applied deploy can
    corrupt state.

One session is opened per command and torn down on every exit path,
including timeouts and caller cancellation.
*/
package remote
