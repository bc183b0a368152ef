// Package cutcode defines the device-level job primitives (cut objects) and
// their grouping into contours (cut groups).
//
// A CutGroup owns its CutObjects in an ordered slice. The Next and Previous
// fields on a CutObject are indices into that slice rather than pointers, so
// a closed contour forms a ring of indices with no ownership cycle. Open
// contours have no wrap link: the first object's Previous and the last
// object's Next are NoLink.
package cutcode
