// Package mqttbridge is the broker's optional ingest path for external
// MQTT-published values, letting sensors that only speak MQTT show up
// as ordinary nodes in the tree.
package mqttbridge
