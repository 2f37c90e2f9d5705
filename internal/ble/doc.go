// Package ble holds the domain types shared by the localization pipeline:
// raw readings, beacon sets, windows, feature vectors and the error taxonomy
// surfaced by every stage.
//
// A reading is one sighting of a worn BLE tag by a fixed detector. The
// detector key ("<place>-<detector>") is the beacon id, and each beacon in
// the configured set contributes exactly one feature to a window.
package ble
