// Package registry maps protocol types to their HCL manifests and Go
// handlers. At startup the registry is populated by the protocol modules and
// then validated: every manifest input must have a matching, type-compatible
// field on its handler's input struct, and vice versa. A mismatch is a
// programmer error and aborts startup.
package registry
