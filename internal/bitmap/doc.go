// Package bitmap provides compressed index sets for cell and column
// activity.
//
// Set wraps a 32-bit roaring bitmap. It is used wherever membership tests or
// overlap counts are needed on sparse activations: the previous active cells
// during temporal learning, prediction hits in the anomaly score and output
// similarity in the homeostatic controller.
//
//	prev := bitmap.FromInts(activeCells)
//	if prev.Contains(cell) {
//	    // reinforce
//	}
//	hits := bitmap.FromInts(active).IntersectionLen(bitmap.FromInts(predicted))
package bitmap
