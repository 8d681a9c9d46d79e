// Package password hashes user passwords with Argon2id for the reference
// backend.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<digest>
//
// [Hasher.Check] flags matches whose stored hash is weaker than the current
// parameters so the caller can re-hash while it still has the plaintext.
// Passwords are never stored or logged here.
package password
