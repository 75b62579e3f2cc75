/*
The sync package implements dirmirror's reconciliation algorithm. It turns a
replica directory tree into a mirror of a source directory tree.

A pass works on two Snapshots that are captured once at the start of the pass:
the directories and fingerprinted files under the source root, and the same
for the replica root. Snapshots are never cached between passes.

Files are identified by their Fingerprint, a hash of the file's contents and
modification time. A replica file only counts as up to date if it has the same
relative path and the same fingerprint as a source file. A replica file with
a source file's fingerprint but a different path is moved rather than copied
again.

Directories are identified by their relative path alone. Their contents are
never compared.

Reconcile applies the diff in a fixed order:
 1. Create missing directories, so that later moves and copies have a parent.
 2. Match files that are already in place.
 3. Move replica files whose fingerprint matches a source file at another path.
 4. Delete replica files that weren't matched or moved.
 5. Copy source files that are still missing.
 6. Delete stale directories, deepest first, since directory deletion is not
    recursive.

If the replica root doesn't exist yet, it's created before step 1.

A few cases don't fit the order above. A replica file where the source now
has a directory is deleted right before the directory is created. A source
file where the replica still has a stale directory is copied after step 6.
When a move targets the current path of a file that's moved later in the same
pass, that file is first renamed to a temporary name in the same directory.

All changes go through a Mutator, so the algorithm can be tested without
touching the filesystem.
*/
package sync
