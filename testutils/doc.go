// Package testutils provides object store fakes shared by the test suites.
//
//   - MemoryBlobStore keeps objects in a map and records every call, which
//     lets feed tests assert on uploads and deletions.
//   - FileBasedS3Mock stores objects as files under a directory, which is
//     handy for end-to-end delivery tests that want to inspect the output.
//
// Both implement Get, Put and DeleteMany with the same semantics as
// storage.S3Storage: a missing key yields consts.ErrObjectNotFound on Get and
// is ignored by DeleteMany.
//
//	store := testutils.NewMemoryBlobStore()
//	store.SetError("sender-domain-com.xml", errors.New("boom"))
package testutils
