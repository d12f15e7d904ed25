// Package influxdb writes bridge statistics to InfluxDB.
//
// It wraps the official influxdb-client-go v2 non-blocking write API.
// Points are batched according to influxdb.batch_size and
// influxdb.flush_interval; write failures arrive asynchronously through
// the SetOnError callback.
//
// Measurements:
//
//	mqtt_bridge_stats   tags: bridge, direction, msg_type
//	                    fields: received, published, dropped, throttled,
//	                            codec_errors, publish_errors
//	mqtt_bridge_connection  tags: client_id
//	                        fields: state, connected
//
// Counters are cumulative since process start; use difference() in Flux
// for rates.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteBridgeStats("/status -> fleet/robot7/status", "outbound", stats)
package influxdb
