/*
Package orientlog provides a log sink for OrientDB in Go, including:

  - `orientlog.Handler` - turns structured logs into LogEvents (implements
    `slog.Handler`)
  - `orientlog.Sink` - buffers LogEvents and delivers them in batches from a
    single background worker
  - `orientlog.Client` - posts batches to the database's bulk-write endpoint,
    keeping the server session, and provisions the record class
  - `orientlog.Encoder` - renders Values, LogEvents and batch envelopes as
    JSON, bridging the `Sink` and the `Client`

Property values are modelled as a closed set of kinds (`Value`): Null, Scalar,
Sequence, Mapping and Structure. The renderer writes them directly into pooled
buffers, without first converting them to intermediate data structures, such
as map[string]any. A value of a kind the renderer does not recognize is a
SerializationError: the event carrying it is dropped, and the rest of its batch
is still delivered.

Emitting never blocks on I/O. Delivery and serialization failures are written
to the internal logger (see SetInternalLogger) and counted with OpenTelemetry
instruments; they are never returned to the code doing the logging.
*/
package orientlog
