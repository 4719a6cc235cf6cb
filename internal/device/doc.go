// Package device holds the GATT vocabulary of fitness sensors: well-known service and
// characteristic UUIDs, decoders for the metadata characteristics read during discovery,
// decoders for the measurement characteristics streamed while monitoring, and the error
// types shared by the BLE transport.
//
// The concrete radio transport lives in the goble subpackage.
package device
