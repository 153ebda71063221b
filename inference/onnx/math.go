package onnx

import "math"

func softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	max := math.Inf(-1)
	for _, v := range logits {
		if float64(v) > max {
			max = float64(v)
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// maskedSoftmax normalizes logits over the positions where keep is true;
// all other positions get probability zero.
func maskedSoftmax(logits []float32, keep []bool) []float64 {
	out := make([]float64, len(logits))
	max := math.Inf(-1)
	for i, v := range logits {
		if keep[i] && float64(v) > max {
			max = float64(v)
		}
	}
	if math.IsInf(max, -1) {
		return out
	}
	var sum float64
	for i, v := range logits {
		if keep[i] {
			out[i] = math.Exp(float64(v) - max)
			sum += out[i]
		}
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
