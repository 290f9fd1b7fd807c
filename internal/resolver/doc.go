// Package resolver turns a timeline into concrete intervals and derives the
// timeline state at an instant.
//
// Three pieces live here:
//
//   - Resolver, the interval resolution contract, with Interval as the
//     built-in implementation. It evaluates absolute, relative and
//     reference expressions, nests children inside their parent's
//     instances, repeats windows up to a Bound and reports future change
//     points.
//   - NowFixer, which replaces "now" starts with stable absolute times
//     before resolution, returning a fixed copy and the list of fixes.
//   - StateAt, which picks the active object per mapped layer.
package resolver
