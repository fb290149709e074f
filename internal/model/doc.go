// Package model defines the acoustic model contract: tensors, signatures,
// the detected input/output profile and a loader that routes model paths to
// backends. Concrete backends live in the onnxrt and remote subpackages.
package model
