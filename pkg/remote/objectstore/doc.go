// Package objectstore provides the backends behind the object_store_*
// remote commands: DiskStore keeps objects as files under a directory and
// MinioStore keeps them in a MinIO or S3 bucket.
package objectstore
