package telemetry

// Both window bounds are inclusive (BETWEEN). A reversed window matches nothing.
const (
	recordColumns = `id, apid, seq_flags, seq_count, timestamp, subsystem_id, temperature, battery, altitude, signal`

	anomalyPredicate = `(altitude < ? OR battery < ? OR signal < ? OR temperature > ?)`

	queryCurrent = `
		SELECT ` + recordColumns + `
		FROM ccsds_packets
		ORDER BY timestamp DESC, id DESC
		LIMIT 1`

	queryCountWindow = `
		SELECT COUNT(*)
		FROM ccsds_packets
		WHERE timestamp BETWEEN ? AND ?`

	queryListWindow = `
		SELECT ` + recordColumns + `
		FROM ccsds_packets
		WHERE timestamp BETWEEN ? AND ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`

	queryCountAnomalies = `
		SELECT COUNT(*)
		FROM ccsds_packets
		WHERE timestamp BETWEEN ? AND ?
		  AND ` + anomalyPredicate

	queryListAnomalies = `
		SELECT ` + recordColumns + `
		FROM ccsds_packets
		WHERE timestamp BETWEEN ? AND ?
		  AND ` + anomalyPredicate + `
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`

	queryAggregate = `
		SELECT
			subsystem_id,
			MIN(altitude) AS altitude_min, MAX(altitude) AS altitude_max, AVG(altitude) AS altitude_avg,
			MIN(battery) AS battery_min, MAX(battery) AS battery_max, AVG(battery) AS battery_avg,
			MIN(signal) AS signal_min, MAX(signal) AS signal_max, AVG(signal) AS signal_avg,
			MIN(temperature) AS temperature_min, MAX(temperature) AS temperature_max, AVG(temperature) AS temperature_avg
		FROM ccsds_packets
		WHERE timestamp BETWEEN ? AND ?
		GROUP BY subsystem_id
		ORDER BY subsystem_id`

	queryPing = `SELECT 1`
)
