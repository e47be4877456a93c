// Package stream prefetches spatial scene chunks around a moving
// viewpoint. A pose update recomputes the wanted chunk set from the
// viewer's position and a velocity-extrapolated look-ahead position; a
// bounded worker pool downloads chunks in priority order through an
// injected transport, and cached payloads are swept by distance once the
// byte budget runs hot.
package stream
